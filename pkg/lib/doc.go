// Package lib holds infrastructure helpers unrelated to any one
// architectural component.
//
//   - log: the slog-based logging facade every package uses.
package lib
