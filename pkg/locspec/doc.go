// Package locspec implements code to parse a string into a specific
// location specification.
//
// Location spec examples:
//
// locStr ::= <filename>:<line> | <function> | /<regex>/ | *<address>
// * <filename> can be the full path of a file or just a suffix
// * <function> is a (possibly demangled) function name and must be unambiguous
// * /<regex>/ will return a location for each function matched by regex
// * *<address> returns the location corresponding to the specified address
package locspec
