package smtp

// Reply codes used by the inbound server session.
const (
	ReplyReady          = 220
	ReplyBye            = 221
	ReplyAuthOK         = 235
	ReplyOK             = 250
	ReplyStartData      = 334
	ReplyStartMailInput = 354
	ReplyNotImplemented = 502
	ReplyBadSequence    = 503
	ReplyAuthRequired   = 530
	ReplyAuthFailed     = 535
	ReplyEncryptionReq  = 538
	ReplyUserUnknown    = 550
)
