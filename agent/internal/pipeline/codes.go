package pipeline

// Result codes persisted on finished tasks.
const (
	CodeOK                  = "OK"
	CodeAuthorityNotReady   = "AUTHORITY_NOT_READY"
	CodeNetworkIO           = "NETWORK_IO"
	CodeDigestMismatch      = "DIGEST_MISMATCH"
	CodeIdentityMismatch    = "IDENTITY_MISMATCH"
	CodePendingUserAction   = "PENDING_USER_ACTION"
	CodeUnknownTaskType     = "UNKNOWN_TASK_TYPE"
	CodeConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	CodeInstallFailed       = "INSTALL_FAILED"
	CodeInterrupted         = "INTERRUPTED"
)

// progress milestones
const (
	progressDownloadStart = 5
	progressDownloadEnd   = 55
	progressDigest        = 60
	progressIdentity      = 70
	progressCommit        = 80
	progressUninstall     = 40
)

const maxAttempts = 3
