// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package handler_test

import (
	"errors"
	"testing"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/handler"
	"github.com/creachadair/binder/pinex"
	"github.com/google/go-cmp/cmp"
)

type sent struct {
	Peer   string
	Rsp    binder.PDU
	Seq    uint32
	Status uint32
}

func TestMux(t *testing.T) {
	var got []string
	record := func(tag string) handler.Func {
		return func(peer string, req binder.PDU, seq uint32) {
			got = append(got, tag+":"+peer)
		}
	}
	m := handler.NewMux().
		Handle(pinex.CmdStream, record("stream")).
		Handle(pinex.CmdBind, record("bind"))

	m.Dispatch("a", &pinex.StreamRequest{}, 1)
	m.Dispatch("b", &pinex.BindRequest{}, 2)
	m.Dispatch("c", &pinex.BindResponse{}, 3) // no route, no fallback

	m.Fallback(record("other"))
	m.Dispatch("d", &pinex.BindResponse{}, 4)

	m.Handle(pinex.CmdStream, nil)
	m.Dispatch("e", &pinex.StreamRequest{}, 5)

	want := []string{"stream:a", "bind:b", "other:d", "other:e"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Dispatch (-got, +want):\n%s", diff)
	}
}

func TestTyped(t *testing.T) {
	var bodies []string
	f := handler.Typed(func(peer string, req *pinex.StreamRequest, seq uint32) {
		bodies = append(bodies, req.Body)
	})
	f("p", &pinex.StreamRequest{Body: "one"}, 1)
	f("p", &pinex.BindRequest{SystemID: "ignored"}, 2)
	f("p", &pinex.StreamRequest{Body: "two"}, 3)

	if diff := cmp.Diff(bodies, []string{"one", "two"}); diff != "" {
		t.Errorf("Typed (-got, +want):\n%s", diff)
	}
}

func TestRespond(t *testing.T) {
	var replies []sent
	reply := func(peer string, rsp binder.PDU, seq, status uint32) error {
		replies = append(replies, sent{peer, rsp, seq, status})
		if status != pinex.StatusOK {
			return errors.New("refused")
		}
		return nil
	}
	var errs []error
	f := handler.Respond(reply, func(peer string, req *pinex.StreamRequest) (binder.PDU, uint32) {
		if req.Body == "" {
			return &pinex.StreamResponse{}, pinex.StatusFail
		}
		return &pinex.StreamResponse{Body: "echo " + req.Body}, pinex.StatusOK
	}, func(err error) { errs = append(errs, err) })

	f("client", &pinex.StreamRequest{Body: "hi"}, 10)
	f("client", &pinex.StreamRequest{}, 11)

	want := []sent{
		{"client", &pinex.StreamResponse{Body: "echo hi"}, 10, pinex.StatusOK},
		{"client", &pinex.StreamResponse{}, 11, pinex.StatusFail},
	}
	if diff := cmp.Diff(replies, want); diff != "" {
		t.Errorf("Replies (-got, +want):\n%s", diff)
	}
	if len(errs) != 1 {
		t.Errorf("Errors: got %v, want 1 error", errs)
	}
}
