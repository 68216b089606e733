// Package memory provides in-process implementations of the newsletter
// stores. They back the dispatcher tests and the development mode of the
// CLI; state is lost on exit.
package memory
