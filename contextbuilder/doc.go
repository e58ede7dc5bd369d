// Package contextbuilder assembles the bounded message list sent to council
// agents. Context is layered in a fixed order (attached files, recalled
// memories, session summary, recent messages, current input) and the result
// is forced under a hard character ceiling.
package contextbuilder
