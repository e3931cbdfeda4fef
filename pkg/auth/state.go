package auth

// State is the position of a Flow in the login protocol.
type State int

const (
	// Unauthenticated is the initial state, and the state after Reset or
	// after a registration attempt.
	Unauthenticated State = iota

	// ChallengeRequested means the backend handed out a challenge.
	ChallengeRequested

	// ChallengeSigned means the challenge was signed and is being verified.
	ChallengeSigned

	// Authenticated means the backend accepted the signature.
	Authenticated

	// Failed means the last login attempt failed. Only Reset leaves it.
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case ChallengeRequested:
		return "challenge-requested"
	case ChallengeSigned:
		return "challenge-signed"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
