// Package publisher hands successful drafts to the item repository boundary.
// Implementations live in the memory and pubsub subpackages.
package publisher
