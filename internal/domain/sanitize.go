package domain

import "regexp"

// repositoryNameRE matches the Distribution v2 repository name grammar:
// lowercase alphanumeric path components separated by one of "." "_" "-"
// within a component and "/" between components.
var repositoryNameRE = regexp.MustCompile(`^[a-z0-9]+(?:(?:[._]|__|[-]*)[a-z0-9]+)*(?:/[a-z0-9]+(?:(?:[._]|__|[-]*)[a-z0-9]+)*)*$`)

// tagNameRE matches the Distribution v2 tag grammar.
var tagNameRE = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)

// namespaceNameRE matches the namespace grammar: a single lowercase,
// hyphen-delimited path component, deliberately stricter than a repository
// name since a namespace is never itself a nested path.
var namespaceNameRE = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidRepositoryName reports whether name conforms to the registry's
// repository name grammar.
func ValidRepositoryName(name string) bool {
	return len(name) > 0 && len(name) <= 255 && repositoryNameRE.MatchString(name)
}

// ValidTagName reports whether tag conforms to the registry's tag grammar.
func ValidTagName(tag string) bool {
	return tagNameRE.MatchString(tag)
}

// ValidNamespaceName reports whether name conforms to the namespace
// grammar.
func ValidNamespaceName(name string) bool {
	return namespaceNameRE.MatchString(name)
}
