// Package datamodel defines the core data structures of dataforge: the topic
// taxonomy tree used to organize generated samples, topic paths used as
// identity keys, generated samples with their model attribution, and run
// configurations with provider/model validation.
package datamodel
