// Package media defines the narrow contracts the pipeline needs from its
// external collaborators (fetching, decoding, encoding, feature extraction,
// silence detection) plus the PCM buffer value type they exchange, and the
// exec-backed production implementations of those contracts.
package media
