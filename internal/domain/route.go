package domain

// Destination is where the client should navigate next.
type Destination string

const (
	DestWelcome             Destination = "WELCOME"
	DestUnauthorizedDevice  Destination = "UNAUTHORIZED_DEVICE"
	DestCommitmentSelection Destination = "COMMITMENT_SELECTION"
	DestSubscriptionExpired Destination = "SUBSCRIPTION_EXPIRED"
	DestDeviceOwnerSetup    Destination = "DEVICE_OWNER_SETUP"
	DestDashboard           Destination = "DASHBOARD"
	DestExpiredDashboard    Destination = "EXPIRED_DASHBOARD"
)

// Verdict is the routing decision. The device ids are only set for
// DestUnauthorizedDevice.
type Verdict struct {
	Destination   Destination `json:"destination"`
	LocalDeviceID string      `json:"local_device_id,omitempty"`
	BoundDeviceID string      `json:"bound_device_id,omitempty"`
}

func To(d Destination) Verdict {
	return Verdict{Destination: d}
}

func UnauthorizedDevice(local, bound string) Verdict {
	return Verdict{Destination: DestUnauthorizedDevice, LocalDeviceID: local, BoundDeviceID: bound}
}
