// Package capsule implements capsule layers: a convolutional primary capsule
// layer and a fully connected capsule layer whose outputs are agreed upon by
// dynamic routing.
//
// Capsules are vectors laid out along the last axis of a tensor. Their length
// is squashed into [0, 1) and read as the probability that the entity the
// capsule represents is present.
package capsule
