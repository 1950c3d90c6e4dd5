package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrProtoMalformed,
		ErrSessionUnknown,
		ErrWorldBusy,
		ErrBadRequest,
		ErrInvalidTarget,
		ErrRateLimit,
		ErrBlocked,
		ErrStunned,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestIsKnownCommand(t *testing.T) {
	for _, c := range []string{CmdMove, CmdMoveZ, CmdClick, CmdBuild, CmdDrop, CmdGhost, CmdResync, CmdDisconnect} {
		if !IsKnownCommand(c) {
			t.Fatalf("expected known command: %q", c)
		}
	}
	if IsKnownCommand("SAY") {
		t.Fatalf("chat is not a command")
	}
}
