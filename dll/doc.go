// Package dll loads a windows DLL lazily, either from a file or from an
// image held in memory, and resolves its exported procedures on first use.
package dll
