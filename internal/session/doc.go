package session

// Role identifies which seat a player occupies in a room.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Opponent returns the other seat.
func (r Role) Opponent() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

// Phase represents the current stage of a match.
type Phase string

const (
	PhaseWaiting       Phase = "waiting"
	PhaseBoard         Phase = "board"
	PhaseRevealLoser   Phase = "reveal-loser"
	PhaseTruthDare     Phase = "truth-dare"
	PhaseRoundComplete Phase = "round-complete"
)

// Winner values stored in GameState.Winner. Empty means the board is
// still being played.
const (
	WinnerHost  = "host"
	WinnerGuest = "guest"
	WinnerDraw  = "draw"
)

// Player is one seat in a room. Connection flags are written by their
// owner and observed by the peer.
type Player struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Photo       string `json:"photo,omitempty"`
	IsHost      bool   `json:"isHost"`
	IsConnected bool   `json:"isConnected"`
	LastSeen    int64  `json:"lastSeen"`
}

// Card is the truth/dare prompt currently in play.
type Card struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Intensity int    `json:"intensity"`
}

// Scores tracks round wins per seat.
type Scores struct {
	Host  int `json:"host"`
	Guest int `json:"guest"`
}

// ReadyFlags tracks per-seat acknowledgement for the next round.
type ReadyFlags struct {
	Host  bool `json:"host"`
	Guest bool `json:"guest"`
}

// GameState is the shared match state embedded in the room document.
// Winner is only ever set once the board is terminal; while the phase is
// "board" it stays empty.
type GameState struct {
	Board             [9]string   `json:"board"`
	CurrentTurn       Role        `json:"currentTurn"`
	Winner            string      `json:"winner,omitempty"`
	GamePhase         Phase       `json:"gamePhase"`
	Loser             Role        `json:"loser,omitempty"`
	CurrentCard       *Card       `json:"currentCard,omitempty"`
	Scores            Scores      `json:"scores"`
	RoundsPlayed      int         `json:"roundsPlayed"`
	ReadyForNextRound *ReadyFlags `json:"readyForNextRound,omitempty"`
}

// Room is the shared document for one match, keyed by its room code.
type Room struct {
	RoomCode  string    `json:"roomCode"`
	Host      Player    `json:"host"`
	Guest     *Player   `json:"guest,omitempty"`
	GameState GameState `json:"gameState"`
	CreatedAt int64     `json:"createdAt"`
	Mood      string    `json:"mood"`
	Status    string    `json:"status"`
}

// Seat returns the player occupying the given role, or nil for an empty
// guest slot.
func (r *Room) Seat(role Role) *Player {
	if role == RoleHost {
		return &r.Host
	}
	return r.Guest
}

// Clone returns a deep copy so store snapshots can be handed out without
// sharing mutable state.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	if r.Guest != nil {
		guest := *r.Guest
		out.Guest = &guest
	}
	if r.GameState.CurrentCard != nil {
		card := *r.GameState.CurrentCard
		out.GameState.CurrentCard = &card
	}
	if r.GameState.ReadyForNextRound != nil {
		ready := *r.GameState.ReadyForNextRound
		out.GameState.ReadyForNextRound = &ready
	}
	return &out
}
