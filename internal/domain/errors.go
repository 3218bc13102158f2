package domain

import "errors"

var (
	ErrCallNotFound      = errors.New("call not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrNotParticipant    = errors.New("user is not a participant of this call")
	ErrNotReceiver       = errors.New("only the receiver can perform this action")
	ErrReceiverBusy      = errors.New("receiver is not available for calls")
)
