package ir

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface for the values allowed in canonical JSON.
// Only Str, Int, Bool, List and Object implement it. There is no float
// variant: signatures must not depend on float formatting.
type Value interface {
	canonicalValue()
}

// Str is a string value.
type Str string

// Int is an integer value.
type Int int64

// Bool is a boolean value.
type Bool bool

// List is an ordered list of values.
type List []Value

// Object maps string keys to values. Iterate with SortedKeys.
type Object map[string]Value

func (Str) canonicalValue()    {}
func (Int) canonicalValue()    {}
func (Bool) canonicalValue()   {}
func (List) canonicalValue()   {}
func (Object) canonicalValue() {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's string comparison orders by UTF-8 bytes, which differs for
// characters outside the BMP.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

// Strs converts a string slice into a List.
func Strs(ss []string) List {
	out := make(List, len(ss))
	for i, s := range ss {
		out[i] = Str(s)
	}
	return out
}

// Ints converts an int slice into a List.
func Ints(ns []int) List {
	out := make(List, len(ns))
	for i, n := range ns {
		out[i] = Int(n)
	}
	return out
}
