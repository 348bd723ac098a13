// Package relationship infers how analyzed papers relate to one another.
//
// The newest analyzed tasks are condensed into short summaries and sent to
// the language model, whose answer is normalized into a graph of paper
// nodes, undirected typed edges, and theme clusters. The graph and its
// build state live under <output>/relationship_graph/.
package relationship
