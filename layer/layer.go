// Package layer defines the layer interface shared by the capsule network building blocks
package layer

import G "gorgonia.org/gorgonia"

// Layer is a differentiable block of the expression graph.
type Layer interface {

	// Forward appends the layer to the graph of x and returns its output node.
	Forward(x *G.Node) (*G.Node, error)

	// Learnables lists the trainable weights created by the layer.
	Learnables() G.Nodes
}

// Learnables concatenates the weights of several layers.
func Learnables(layers ...Layer) (o G.Nodes) {
	for _, l := range layers {
		o = append(o, l.Learnables()...)
	}
	return
}
