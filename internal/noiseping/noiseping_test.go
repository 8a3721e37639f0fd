package noiseping

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func mustPSK(t *testing.T) [32]byte {
	t.Helper()
	var psk [32]byte
	if _, err := rand.Read(psk[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return psk
}

func TestHandshake_FullExchange_ProducesMatchingCipherStates(t *testing.T) {
	psk := mustPSK(t)

	initiator, err := New(psk, Initiator)
	if err != nil {
		t.Fatalf("New(initiator): %v", err)
	}
	responder, err := New(psk, Responder)
	if err != nil {
		t.Fatalf("New(responder): %v", err)
	}

	earlyData := bytes.Repeat([]byte{0xAA}, EarlyDataLen)
	ping, err := initiator.WritePing(earlyData)
	if err != nil {
		t.Fatalf("WritePing: %v", err)
	}
	if len(ping) != PingLen {
		t.Fatalf("ping length = %d, want %d", len(ping), PingLen)
	}

	gotEarlyData, err := responder.ReadPing(ping)
	if err != nil {
		t.Fatalf("ReadPing: %v", err)
	}
	if !bytes.Equal(gotEarlyData, earlyData) {
		t.Fatalf("early data = %x, want %x", gotEarlyData, earlyData)
	}

	pong, respSend, respRecv, err := responder.WritePong()
	if err != nil {
		t.Fatalf("WritePong: %v", err)
	}
	if len(pong) != PongLen {
		t.Fatalf("pong length = %d, want %d", len(pong), PongLen)
	}
	if !responder.Done() {
		t.Fatal("responder should be done after WritePong")
	}

	initSend, initRecv, err := initiator.ReadPong(pong)
	if err != nil {
		t.Fatalf("ReadPong: %v", err)
	}
	if !initiator.Done() {
		t.Fatal("initiator should be done after ReadPong")
	}

	plaintext := []byte("transport phase message")
	ciphertext, err := initSend.Encrypt(nil, nil, plaintext)
	if err != nil {
		t.Fatalf("initiator Encrypt: %v", err)
	}
	decrypted, err := respRecv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		t.Fatalf("responder Decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", decrypted, plaintext)
	}

	reply := []byte("reply in the other direction")
	replyCiphertext, err := respSend.Encrypt(nil, nil, reply)
	if err != nil {
		t.Fatalf("responder Encrypt: %v", err)
	}
	replyDecrypted, err := initRecv.Decrypt(nil, nil, replyCiphertext)
	if err != nil {
		t.Fatalf("initiator Decrypt: %v", err)
	}
	if !bytes.Equal(replyDecrypted, reply) {
		t.Fatalf("reply round trip mismatch: got %q, want %q", replyDecrypted, reply)
	}
}

func TestHandshake_MismatchedPSK_FailsPing(t *testing.T) {
	psk := mustPSK(t)
	wrongPSK := mustPSK(t)

	initiator, _ := New(psk, Initiator)
	responder, _ := New(wrongPSK, Responder)

	ping, err := initiator.WritePing(make([]byte, EarlyDataLen))
	if err != nil {
		t.Fatalf("WritePing: %v", err)
	}
	if _, err := responder.ReadPing(ping); err == nil {
		t.Fatal("expected ReadPing to fail with a mismatched PSK")
	}
}

func TestHandshake_WrongRoleMethods_Error(t *testing.T) {
	psk := mustPSK(t)
	initiator, _ := New(psk, Initiator)
	responder, _ := New(psk, Responder)

	if _, err := initiator.ReadPing(make([]byte, PingLen)); err == nil {
		t.Fatal("ReadPing on an initiator handshake should error")
	}
	if _, err := responder.WritePing(make([]byte, EarlyDataLen)); err == nil {
		t.Fatal("WritePing on a responder handshake should error")
	}
	if _, _, _, err := initiator.WritePong(); err == nil {
		t.Fatal("WritePong on an initiator handshake should error")
	}
	if _, _, err := responder.ReadPong(make([]byte, PongLen)); err == nil {
		t.Fatal("ReadPong on a responder handshake should error")
	}
}
