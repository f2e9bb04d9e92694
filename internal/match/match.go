// Package match holds the pure transition logic for one round: board
// moves, win/draw detection, phase changes, and round bookkeeping. It has
// no knowledge of transport; local play mutates state directly and online
// play writes the same transitions through the session store.
package match

import (
	"math/rand/v2"

	"github.com/hudjsw143/royal-ishq/internal/session"
)

// Board symbols per seat.
const (
	SymbolHost  = "X"
	SymbolGuest = "O"
)

// winningTriples are the 3 rows, 3 columns and 2 diagonals.
var winningTriples = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// CoinFlip decides the loser of a drawn board. Injectable so tests can
// pin the outcome.
type CoinFlip func() session.Role

// RandomCoinFlip picks host or guest uniformly.
func RandomCoinFlip() session.Role {
	if rand.IntN(2) == 0 {
		return session.RoleHost
	}
	return session.RoleGuest
}

// Symbol returns the board symbol for a seat.
func Symbol(role session.Role) string {
	if role == session.RoleHost {
		return SymbolHost
	}
	return SymbolGuest
}

// NewGameState returns the initial state for a fresh room: empty board,
// host to move, waiting for a guest.
func NewGameState() session.GameState {
	return session.GameState{
		CurrentTurn: session.RoleHost,
		GamePhase:   session.PhaseWaiting,
	}
}

// CanMove reports whether a move by role at index would be accepted:
// board phase, empty cell, and the mover's turn.
func CanMove(gs *session.GameState, role session.Role, index int) bool {
	if gs.GamePhase != session.PhaseBoard {
		return false
	}
	if index < 0 || index >= len(gs.Board) || gs.Board[index] != "" {
		return false
	}
	return gs.CurrentTurn == role
}

// ApplyMove plays a cell for the given seat. Illegal moves are ignored
// and reported false; the UI is expected to prevent them. A terminal
// board settles the round in the same transition: winner, loser, phase,
// score credit and the round counter.
func ApplyMove(gs *session.GameState, role session.Role, index int, flip CoinFlip) bool {
	if !CanMove(gs, role, index) {
		return false
	}

	gs.Board[index] = Symbol(role)
	gs.CurrentTurn = role.Opponent()

	if symbol, _, won := CheckWinner(gs.Board); won {
		winner := session.RoleHost
		if symbol == SymbolGuest {
			winner = session.RoleGuest
		}
		settleRound(gs, string(winner), winner.Opponent())
		return true
	}

	if IsDraw(gs.Board) {
		if flip == nil {
			flip = RandomCoinFlip
		}
		// Ties still produce a challenge: the loser is a coin flip.
		settleRound(gs, session.WinnerDraw, flip())
		return true
	}
	return true
}

func settleRound(gs *session.GameState, winner string, loser session.Role) {
	gs.Winner = winner
	gs.Loser = loser
	gs.GamePhase = session.PhaseRevealLoser
	switch winner {
	case session.WinnerHost:
		gs.Scores.Host++
	case session.WinnerGuest:
		gs.Scores.Guest++
	}
	gs.RoundsPlayed++
}

// CheckWinner scans the 8 fixed triples for three-in-a-row.
func CheckWinner(board [9]string) (symbol string, line [3]int, ok bool) {
	for _, triple := range winningTriples {
		a, b, c := triple[0], triple[1], triple[2]
		if board[a] != "" && board[a] == board[b] && board[a] == board[c] {
			return board[a], triple, true
		}
	}
	return "", [3]int{}, false
}

// IsDraw reports a full board with no winning triple.
func IsDraw(board [9]string) bool {
	for _, cell := range board {
		if cell == "" {
			return false
		}
	}
	_, _, won := CheckWinner(board)
	return !won
}

// AcknowledgeReveal moves reveal-loser to the truth-dare phase.
func AcknowledgeReveal(gs *session.GameState) bool {
	if gs.GamePhase != session.PhaseRevealLoser {
		return false
	}
	gs.GamePhase = session.PhaseTruthDare
	return true
}

// ResolveCard completes the truth-dare phase, whether the prompt was
// performed or skipped.
func ResolveCard(gs *session.GameState) bool {
	if gs.GamePhase != session.PhaseTruthDare {
		return false
	}
	gs.GamePhase = session.PhaseRoundComplete
	return true
}

// StartingTurn returns who opens the next board based on rounds played,
// alternating so the same seat does not always start.
func StartingTurn(roundsPlayed int) session.Role {
	if roundsPlayed%2 == 0 {
		return session.RoleGuest
	}
	return session.RoleHost
}

// NextRound clears the round state and hands the opening move to the
// seat chosen by parity.
func NextRound(gs *session.GameState) {
	gs.Board = [9]string{}
	gs.CurrentTurn = StartingTurn(gs.RoundsPlayed)
	gs.Winner = ""
	gs.Loser = ""
	gs.CurrentCard = nil
	gs.ReadyForNextRound = nil
	gs.GamePhase = session.PhaseBoard
}

// NextRoundPatch is the online form of NextRound: the same transition
// expressed as a store patch written by the seat requesting the round.
func NextRoundPatch(roundsPlayed int) session.Patch {
	return session.Patch{
		session.PathBoard:             [9]string{},
		session.PathCurrentTurn:       StartingTurn(roundsPlayed),
		session.PathWinner:            "",
		session.PathLoser:             session.Role(""),
		session.PathCurrentCard:       (*session.Card)(nil),
		session.PathReadyForNextRound: (*session.ReadyFlags)(nil),
		session.PathGamePhase:         session.PhaseBoard,
	}
}

// MovePatch expresses an applied move as a store patch. Call ApplyMove on
// a snapshot first; the patch carries the resulting fields.
func MovePatch(gs *session.GameState) session.Patch {
	patch := session.Patch{
		session.PathBoard:       gs.Board,
		session.PathCurrentTurn: gs.CurrentTurn,
	}
	if gs.GamePhase != session.PhaseBoard {
		patch[session.PathWinner] = gs.Winner
		patch[session.PathLoser] = gs.Loser
		patch[session.PathGamePhase] = gs.GamePhase
		patch[session.PathScores] = gs.Scores
		patch[session.PathRoundsPlayed] = gs.RoundsPlayed
	}
	return patch
}
