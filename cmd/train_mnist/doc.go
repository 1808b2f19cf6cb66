// Package main provides a program for training a capsule network with dynamic
// routing on the MNIST handwritten digit dataset. It downloads the dataset,
// trains with the joint margin and reconstruction loss and prints loss and
// accuracy after every epoch.
package main
