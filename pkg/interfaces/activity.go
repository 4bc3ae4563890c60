package interfaces

import "github.com/fret/fret/pkg/types"

// ActivityHandler is the single application-supplied callback invoked when
// a RouteAndMaybeAct request carrying a payload arrives in-cluster. Its
// semantics (what the activity means, how signatures are collected) are an
// external collaborator's concern; FRET only dispatches to it and relays
// its result.
type ActivityHandler interface {
	HandleActivity(activity []byte, cohort []types.PeerID, minSigs int, correlationID string) (types.CommitCertificate, error)
}

// ActivityHandlerFunc adapts a plain function to ActivityHandler.
type ActivityHandlerFunc func(activity []byte, cohort []types.PeerID, minSigs int, correlationID string) (types.CommitCertificate, error)

func (f ActivityHandlerFunc) HandleActivity(activity []byte, cohort []types.PeerID, minSigs int, correlationID string) (types.CommitCertificate, error) {
	return f(activity, cohort, minSigs, correlationID)
}
