// Package imaging turns encoded image bytes into memory-bounded image.Image
// values. Decoding reads the bounds first, derives a sample factor from the
// configured pixel budget and only then materializes pixels, downsampling
// the result so callers never hold more than roughly MaxPixels pixels per
// image. The package also hosts the named post-decode filters that the
// loader applies before an image enters the memory tier.
package imaging
