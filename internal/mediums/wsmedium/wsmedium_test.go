package wsmedium

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/nearby-sub023/internal/frame"
)

func TestDialAndAcceptRoundTrip(t *testing.T) {
	u := New(frame.MediumWifiHotspot, "127.0.0.1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, err := u.StartServer(ctx)
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	defer srv.Close()

	params := srv.Params()
	if params.Medium != frame.MediumWifiHotspot || params.Port == 0 {
		t.Fatalf("unexpected params: %+v", params)
	}

	acceptedC := make(chan error, 1)
	dialedC := make(chan error, 1)

	go func() {
		clientSock, err := u.Dial(ctx, params)
		if err != nil {
			dialedC <- err
			return
		}
		defer clientSock.Close()
		if _, err := clientSock.OutputStream().Write([]byte("hello-from-client")); err != nil {
			dialedC <- err
			return
		}
		buf := make([]byte, 32)
		n, err := clientSock.InputStream().Read(buf)
		if err != nil {
			dialedC <- err
			return
		}
		if string(buf[:n]) != "hello-from-server" {
			dialedC <- io.ErrUnexpectedEOF
			return
		}
		dialedC <- nil
	}()

	go func() {
		serverSock, err := srv.Accept(ctx)
		if err != nil {
			acceptedC <- err
			return
		}
		defer serverSock.Close()
		buf := make([]byte, 32)
		n, err := serverSock.InputStream().Read(buf)
		if err != nil {
			acceptedC <- err
			return
		}
		if string(buf[:n]) != "hello-from-client" {
			acceptedC <- io.ErrUnexpectedEOF
			return
		}
		if _, err := serverSock.OutputStream().Write([]byte("hello-from-server")); err != nil {
			acceptedC <- err
			return
		}
		acceptedC <- nil
	}()

	if err := <-acceptedC; err != nil {
		t.Fatalf("accept side: %v", err)
	}
	if err := <-dialedC; err != nil {
		t.Fatalf("dial side: %v", err)
	}
}
