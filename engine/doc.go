// Package engine wraps wazero as the production execution path for
// differential testing. It compiles and instantiates modules with a
// bounded memory ceiling and exposes raw exported-function calls; all
// outcome classification lives in the harness package.
package engine
