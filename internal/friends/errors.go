package friends

import "errors"

var (
	// ErrSelfInvite is returned when a user invites themselves.
	ErrSelfInvite = errors.New("you cannot invite yourself")
	// ErrAlreadyExists is returned when a pending invite already links the pair.
	ErrAlreadyExists = errors.New("an invite between these users is already pending")
	// ErrAlreadyFriends is returned when the pair are already friends.
	ErrAlreadyFriends = errors.New("you are already friends")
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInviteNotFound is returned when no invite exists between the pair.
	ErrInviteNotFound = errors.New("invite not found")
	// ErrTokenNotFound is returned for unknown or expired invite tokens.
	ErrTokenNotFound = errors.New("invalid or expired invite link")
	// ErrRecipientNotRegistered is returned when an emailed invite is accepted
	// before the recipient has signed up.
	ErrRecipientNotRegistered = errors.New("sign up with the invited email address before accepting")
	// ErrInvalidEmail is returned for malformed invite addresses.
	ErrInvalidEmail = errors.New("a valid email address is required")
	// ErrInvalidAction is returned when a token response is neither accept nor decline.
	ErrInvalidAction = errors.New("action must be accept or decline")
	// ErrMailDelivery is returned when the invitation email could not be sent.
	ErrMailDelivery = errors.New("could not send invitation email")
)

// IsConflict reports whether err belongs to the conflict class.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSelfInvite) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrAlreadyFriends) ||
		errors.Is(err, ErrRecipientNotRegistered)
}

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrInviteNotFound) ||
		errors.Is(err, ErrTokenNotFound)
}

// IsValidation reports whether err was caused by caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidEmail) || errors.Is(err, ErrInvalidAction)
}
