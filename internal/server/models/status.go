package models

// RequestStatus is the lifecycle state of an AccessRequest.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
	RequestRevoked  RequestStatus = "REVOKED"
	RequestExpired  RequestStatus = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s == RequestRejected || s == RequestRevoked || s == RequestExpired
}

// DocumentStatus is the review state of a VerificationDocument.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "PENDING"
	DocumentVerified DocumentStatus = "VERIFIED"
	DocumentRejected DocumentStatus = "REJECTED"
	DocumentExpired  DocumentStatus = "EXPIRED"
)

// VerificationStatus is the identity verification state of a User.
type VerificationStatus string

const (
	VerificationNone     VerificationStatus = "UNVERIFIED"
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

// Visibility controls what anyone may see of a manuscript without a grant.
type Visibility string

const (
	VisibilityPublic     Visibility = "PUBLIC"
	VisibilityRestricted Visibility = "RESTRICTED"
	VisibilityPrivate    Visibility = "PRIVATE"
)

// UsageKind selects which grant counter a delivery increments.
type UsageKind string

const (
	UsageView     UsageKind = "VIEW"
	UsageDownload UsageKind = "DOWNLOAD"
)
