// Package trainer provides the training orchestration for capsule networks.
// It runs the epoch loop over mini-batches, steps the Adam solver on the
// joint margin and reconstruction loss, evaluates the test split after every
// epoch and keeps loss, accuracy and confusion meters.
package trainer
