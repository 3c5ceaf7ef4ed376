package importer

// State is a stage of an import run.
type State string

const (
	StateIdle                State = "IDLE"
	StateBackingUp           State = "BACKING_UP"
	StateDropping            State = "DROPPING"
	StateCreatingSchema      State = "CREATING_SCHEMA"
	StateLoadingStructural   State = "LOADING_STRUCTURAL"
	StateLoadingData         State = "LOADING_DATA"
	StateLoadingTranslations State = "LOADING_TRANSLATIONS"
	StateCaching             State = "CACHING"
	StateBackingUp2          State = "BACKING_UP_2"
	StateDone                State = "DONE"
	StateFailed              State = "FAILED"
	StateRestoring           State = "RESTORING"
)

// transitions lists the states reachable from each state. Failed is
// reachable from every state after BackingUp and is added below.
var transitions = map[State][]State{
	StateIdle:                {StateBackingUp, StateDone},
	StateBackingUp:           {StateDropping, StateCreatingSchema},
	StateDropping:            {StateCreatingSchema},
	StateCreatingSchema:      {StateLoadingStructural},
	StateLoadingStructural:   {StateLoadingData},
	StateLoadingData:         {StateLoadingTranslations},
	StateLoadingTranslations: {StateCaching},
	StateCaching:             {StateBackingUp2},
	StateBackingUp2:          {StateDone},
	StateDone:                {StateIdle},
	StateFailed:              {StateRestoring},
	StateRestoring:           {StateIdle},
}

func init() {
	for _, s := range []State{
		StateBackingUp, StateDropping, StateCreatingSchema, StateLoadingStructural,
		StateLoadingData, StateLoadingTranslations, StateCaching,
	} {
		transitions[s] = append(transitions[s], StateFailed)
	}
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one observed state change.
type Transition struct {
	From State
	To   State
}
