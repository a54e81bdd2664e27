package storage

import "net/url"

// Key scheme: one content object plus a files folder per keyword
// namespace.
//
//	{word}/index.txt     text body
//	{word}/files/{name}  attached files
//
// Names are percent-decoded before key construction so listing and
// prefix-matching stay consistent; encoding happens only at the HTTP
// boundary (Content-Disposition).

const contentName = "index.txt"

// ContentPrefix returns the namespace prefix for a keyword's content
// object.
func ContentPrefix(word string) string { return word }

// ContentName returns the object name of the text body within its
// namespace.
func ContentName() string { return contentName }

// ContentKey returns the full storage key of a keyword's text body.
func ContentKey(word string) string { return word + "/" + contentName }

// FileKey returns the full storage key of an attached file.
func FileKey(word, name string) string { return FilePrefix(word) + "/" + DecodeName(name) }

// FilePrefix returns the folder prefix holding a keyword's attached
// files.
func FilePrefix(word string) string { return word + "/files" }

// DecodeName percent-decodes a file name taken from a URL. Undecodable
// input is kept verbatim; key construction is total.
func DecodeName(name string) string {
	decoded, err := url.QueryUnescape(name)
	if err != nil {
		return name
	}
	return decoded
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
