// Package device defines the BLE transport contract used by the controller
// session: a Transport dials a peripheral and returns a Link offering GATT
// discovery, reads, writes and notification subscriptions.
//
// The package also carries the link error taxonomy (ConnectionError,
// NotFoundError, ErrBluetoothOff) and the GATT UUIDs of the BRC1H
// controller and the Device Information Service.
//
// The go-ble implementation lives in the go-ble subpackage.
package device
