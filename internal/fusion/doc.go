// Package fusion estimates device orientation by blending gyroscope integration with an absolute
// accelerometer+magnetometer fix using a complementary filter.
//
// Angles follow the Android sensor convention: azimuth is measured clockwise from magnetic north
// around the device's -Z axis, pitch around X and roll around Y. A rotation matrix maps device
// coordinates into the world frame (east, north, up).
//
// The package does no I/O and is not safe for concurrent use; callers serialize access to an Engine.
package fusion
