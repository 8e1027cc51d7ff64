// Package auth implements the hub's authentication gate.
//
// Gate validates bearer tokens against a single shared secret or the hourly
// rotating token derived from it. SanitizePush performs the field-level
// validation a privileged flight_push must pass before it may touch flight
// state.
package auth
