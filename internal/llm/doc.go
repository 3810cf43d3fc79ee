// Package llm defines the boundary to the reasoning engine: ordered
// conversation input goes in, a cooperative stream of typed events comes
// out. The engine itself is a black box behind the Runner interface;
// concrete providers live in sub-packages.
package llm
