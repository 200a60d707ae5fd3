package q3pengine

import "fmt"

// chooseRole resolves which side becomes master, given each side's stated
// preference (neither set means undecided) and a nonce to break ties.
//
// Resolution order, mirroring the handshake's tie-break:
//  1. Both sides decided, no conflict (one wants master, the other slave):
//     honour the local preference.
//  2. Both sides decided and conflict (both master or both slave): the
//     preferences cancel out, fall back to the nonce dice-roll.
//  3. Only the local side decided: honour it; the peer resolves the
//     mirror image independently.
//  4. Only the peer decided: adopt the inverse of the peer's decision.
//  5. Neither side decided: nonce dice-roll.
func chooseRole(localMaster, localSlave, peerMaster, peerSlave bool, localNonce, peerNonce uint32) (isMaster bool, err error) {
	localDecided := localMaster || localSlave
	peerDecided := peerMaster || peerSlave

	switch {
	case localDecided && peerDecided:
		conflict := (localMaster && peerMaster) || (localSlave && peerSlave)
		if !conflict {
			return localMaster, nil
		}
		return diceRoll(localNonce, peerNonce)
	case localDecided && !peerDecided:
		return localMaster, nil
	case !localDecided && peerDecided:
		return peerSlave, nil
	default:
		return diceRoll(localNonce, peerNonce)
	}
}

// diceRoll breaks an undecided or conflicting role preference using the
// sum-parity of both sides' nonces: if the sum is even, the higher nonce
// is master; if odd, the lower nonce is master. Equal nonces can't be
// broken and are a hard Config failure — both sides must retry with a
// fresh nonce.
func diceRoll(localNonce, peerNonce uint32) (isMaster bool, err error) {
	if localNonce == peerNonce {
		return false, fmt.Errorf("%w: nonce collision (%d)", ErrConfig, localNonce)
	}
	higherIsMaster := (localNonce+peerNonce)%2 == 0
	localIsHigher := localNonce > peerNonce
	return higherIsMaster == localIsHigher, nil
}
