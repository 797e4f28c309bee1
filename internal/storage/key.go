package storage

import (
	"path"
	"strings"
)

// ObjectKey builds "{prefix}/{basename(localPath)}" using forward slashes only.
// Windows separators in either argument are normalized first.
func ObjectKey(prefix, localPath string) string {
	name := path.Base(toSlash(localPath))
	prefix = strings.TrimRight(NormalizePrefix(prefix), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// NormalizePrefix turns a user supplied prefix into the form used for listing.
func NormalizePrefix(prefix string) string {
	return toSlash(strings.TrimSpace(prefix))
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func publicURL(domain, key string) string {
	domain = strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://")
	domain = strings.TrimRight(domain, "/")
	return "https://" + domain + "/" + strings.TrimLeft(key, "/")
}
