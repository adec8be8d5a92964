// Package ring provides a fixed-capacity FIFO buffer that overwrites its
// oldest element once full. It backs the metric buffer and every sliding
// window, so memory stays bounded no matter how fast samples arrive.
package ring
