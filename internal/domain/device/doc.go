// Package device describes the hardware and firmware the upgrader runs on.
//
// A Profile pairs the canonical board tag used in release asset names with
// the firmware generation. It is built once per run from raw values.
package device
