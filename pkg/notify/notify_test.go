package notify

import (
	"context"
	"errors"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func at(hour int) func() time.Time {
	return func() time.Time { return time.Date(2024, 1, 15, hour, 30, 0, 0, time.Local) }
}

func TestNotify_HourGate(t *testing.T) {
	for _, tc := range []struct {
		hour int
		sent bool
	}{
		{7, true}, {12, true}, {16, true}, {8, false}, {0, false}, {23, false},
	} {
		m := &recordingMailer{}
		n := New(Config{}, m, nil, WithClock(at(tc.hour)))
		sent, err := n.Notify(context.Background(), FlagNoSamplesheet, "run-1")
		require.NoError(t, err)
		assert.Equal(t, tc.sent, sent, "hour %d", tc.hour)
		assert.Len(t, m.sent, map[bool]int{true: 1, false: 0}[tc.sent])
	}
}

func TestNotify_Render(t *testing.T) {
	m := &recordingMailer{}
	n := New(Config{Hours: []int{9}}, m, nil, WithClock(at(9)))

	_, err := n.Notify(context.Background(), FlagFailedRun, "190201_A00621_0032_BHHFCFDSXX")
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "WARNING, Reinitialization of partially failed FC", m.sent[0].Subject)
	assert.Contains(t, m.sent[0].Body, "The offending entry is: 190201_A00621_0032_BHHFCFDSXX")

	assert.Equal(t, "ERROR, Samplesheet error", FlagNoSamplesheet.Subject())
	assert.Equal(t, "ERROR, Incorrectly formatted samplesheet", FlagWeirdSamplesheet.Subject())
	assert.Equal(t, "WARNING, Low disk space", FlagDiskSpace.Subject())
}

func TestNotify_MaxPerPass(t *testing.T) {
	m := &recordingMailer{}
	now := at(7)()
	n := New(Config{MaxPerPass: 2, Hours: []int{7, 12, 16}}, m, nil, WithClock(func() time.Time { return now }))

	for i := 0; i < 5; i++ {
		_, err := n.Notify(context.Background(), FlagNoSamplesheet, "run")
		require.NoError(t, err)
	}
	assert.Len(t, m.sent, 2)

	// a long pass reaching the next allowed hour gets no new budget
	now = now.Add(5 * time.Hour)
	sent, err := n.Notify(context.Background(), FlagFailedRun, "run")
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Len(t, m.sent, 2)
}

func TestNotify_MailerError(t *testing.T) {
	m := &recordingMailer{err: errors.New("relay down")}
	n := New(Config{}, m, nil, WithClock(at(12)))

	sent, err := n.Notify(context.Background(), FlagNoSamplesheet, "run")
	require.Error(t, err)
	assert.False(t, sent)
}

func TestSMTPMailer_Compose(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  []byte
	)
	m := NewSMTPMailer("mail.example.org", 0, "flowstatus@example.org", []string{"a@example.org", "b@example.org"})
	m.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	require.NoError(t, m.Send(context.Background(), Render(FlagNoSamplesheet, "run-1")))
	assert.Equal(t, "mail.example.org:25", gotAddr)
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: ERROR, Samplesheet error\r\n")
	assert.Contains(t, string(gotMsg), "To: a@example.org, b@example.org\r\n")

	m.Recipients = nil
	require.Error(t, m.Send(context.Background(), Message{}))
}
