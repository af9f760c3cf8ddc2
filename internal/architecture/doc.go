// Package architecture holds the import layering checks for the module. It
// has no runtime code.
package architecture
