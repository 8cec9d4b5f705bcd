package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/cwmail/internal/mailapi"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:2587", "submission server address")
	from := flag.String("from", "sender@example.com", "account to send as")
	password := flag.String("password", "", "account password")
	to := flag.String("to", "receiver@example.com", "recipient")
	reads := flag.Int("reads", 1, "read limit; 0 sends an ordinary message")
	flag.Parse()

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: *from}})
	h.SetAddressList("To", []*mail.Address{{Address: *to}})
	h.SetSubject("cwmail submission example")
	if *reads > 0 {
		h.Set(mailapi.ReadLimitHeader, strconv.Itoa(*reads))
	}

	var buf bytes.Buffer
	body, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		fail(err)
	}
	_, _ = io.WriteString(body, "This message was submitted over SMTP.\n")
	if err := body.Close(); err != nil {
		fail(err)
	}

	c, err := smtp.Dial(*addr)
	if err != nil {
		fail(err)
	}
	defer c.Close()
	if err := c.Auth(sasl.NewPlainClient("", *from, *password)); err != nil {
		fail(err)
	}
	if err := c.SendMail(*from, []string{*to}, &buf); err != nil {
		fail(err)
	}
	if err := c.Quit(); err != nil {
		fail(err)
	}
	fmt.Printf("sent to %s with read limit %d\n", *to, *reads)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
