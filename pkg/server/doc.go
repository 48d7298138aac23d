/*
Package server implements a REST API for synchronizing LYWSD02 clocks.

Endpoints:

	POST /api/1/devices/{address}/set_time
	GET  /api/1/devices/{address}/last_sync
	GET  /api/1/devices/{address}/history
	GET  /api/1/devices

The set_time body is optional JSON:

	{"tz_offset": 2, "temp_mode": "C", "clock_mode": 24, "timestamp": 1700000000, "timeout": 30}

Omitted fields fall back to the server defaults. Requests for the same address are serialized;
requests for different addresses run concurrently. timeout is the connect timeout in whole
seconds. Unrecognized temp_mode or clock_mode values are logged and leave that setting unchanged.
*/
package server
