package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/executor"
)

// fakeEngine scripts browser behavior per selector. waitErr maps a
// selector to the error WaitVisible returns for it; selectors absent from
// the map are immediately visible.
type fakeEngine struct {
	mu          sync.Mutex
	waitErr     map[string]error
	texts       map[string]string
	navErr      error
	clickErr    error
	screenshot  []byte
	filled      map[string]string
	navigated   []string
	clicked     []string
	closed      bool
	inFlight    int
	maxInFlight int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		waitErr:    map[string]error{},
		texts:      map[string]string{},
		filled:     map[string]string{},
		screenshot: []byte("png-bytes"),
	}
}

func (f *fakeEngine) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
}

func (f *fakeEngine) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeEngine) Navigate(_ context.Context, url string) error {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	f.navigated = append(f.navigated, url)
	f.mu.Unlock()
	return f.navErr
}

func (f *fakeEngine) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.waitErr[selector]; ok {
		return err
	}
	return nil
}

func (f *fakeEngine) Fill(_ context.Context, selector, value string) error {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	f.filled[selector] = value
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Click(_ context.Context, selector string) error {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	f.clicked = append(f.clicked, selector)
	f.mu.Unlock()
	return f.clickErr
}

func (f *fakeEngine) Text(_ context.Context, selector string) (string, error) {
	return f.texts[selector], nil
}

func (f *fakeEngine) Screenshot(context.Context) ([]byte, error) {
	return f.screenshot, nil
}

func (f *fakeEngine) Close(context.Context) error {
	f.closed = true
	return nil
}

func browserSpec() *broker.RemovalSpec {
	return &broker.RemovalSpec{
		BrokerID: "whitepages",
		Channel:  broker.ChannelBrowserForm,
		Browser: &broker.BrowserSpec{
			URL: "https://whitepages.test/optout",
			Selectors: map[string]string{
				"#email": "email",
				"#url":   "listing_url",
			},
			SubmitSelector:  "#submit",
			SuccessSelector: ".confirmation",
			CaptchaSelector: ".g-recaptcha",
			ErrorSelector:   ".form-error",
		},
	}
}

func profileFields() executor.Fields {
	return executor.Fields{
		"email":       "alice@example.com",
		"listing_url": "https://whitepages.test/person/99",
	}
}

func newTestExecutor(engine Engine) *Executor {
	return New(withEngineFactory(func() (Engine, error) { return engine, nil }))
}

func TestExecuteSuccess(t *testing.T) {
	fake := newFakeEngine()
	// No CAPTCHA on the page.
	fake.waitErr[".g-recaptcha"] = context.DeadlineExceeded
	fake.waitErr[".form-error"] = context.DeadlineExceeded

	out, err := newTestExecutor(fake).Execute(context.Background(), browserSpec(), profileFields())
	require.NoError(t, err)

	assert.Equal(t, executor.OutcomeSubmitted, out.Kind)
	assert.Equal(t, []byte("png-bytes"), out.Screenshot)
	assert.Equal(t, "alice@example.com", fake.filled["#email"])
	assert.Equal(t, "https://whitepages.test/person/99", fake.filled["#url"])
	assert.Equal(t, []string{"#submit"}, fake.clicked)
}

func TestExecuteCaptchaDetected(t *testing.T) {
	fake := newFakeEngine()
	// CAPTCHA selector visible immediately: nothing in waitErr.

	out, err := newTestExecutor(fake).Execute(context.Background(), browserSpec(), profileFields())
	require.NoError(t, err)

	assert.Equal(t, executor.OutcomeRequiresCaptcha, out.Kind)
	assert.Equal(t, "https://whitepages.test/optout", out.CaptchaURL)
	assert.Empty(t, fake.filled, "no fields may be filled once a captcha is detected")
	assert.Empty(t, fake.clicked)
}

func TestExecuteSuccessTimeout(t *testing.T) {
	fake := newFakeEngine()
	fake.waitErr[".g-recaptcha"] = context.DeadlineExceeded
	fake.waitErr[".form-error"] = context.DeadlineExceeded
	fake.waitErr[".confirmation"] = context.DeadlineExceeded

	exec := newTestExecutor(fake)
	out, err := exec.Execute(context.Background(), browserSpec(), profileFields())
	require.NoError(t, err)

	assert.Equal(t, executor.OutcomeFailed, out.Kind)
	assert.Contains(t, out.Reason, "success confirmation not detected")
	assert.Nil(t, out.Screenshot)

	// The lock must be free again: a second attempt runs to completion.
	fake.waitErr[".confirmation"] = nil
	out, err = exec.Execute(context.Background(), browserSpec(), profileFields())
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSubmitted, out.Kind)
}

func TestExecuteErrorSelector(t *testing.T) {
	fake := newFakeEngine()
	fake.waitErr[".g-recaptcha"] = context.DeadlineExceeded
	fake.texts[".form-error"] = "Listing URL not recognized"

	out, err := newTestExecutor(fake).Execute(context.Background(), browserSpec(), profileFields())
	require.NoError(t, err)

	assert.Equal(t, executor.OutcomeFailed, out.Kind)
	assert.Contains(t, out.Reason, "Listing URL not recognized")
}

func TestExecuteMissingProfileField(t *testing.T) {
	fake := newFakeEngine()
	fake.waitErr[".g-recaptcha"] = context.DeadlineExceeded

	fields := executor.Fields{"email": "alice@example.com"} // listing_url absent
	out, err := newTestExecutor(fake).Execute(context.Background(), browserSpec(), fields)
	require.NoError(t, err)

	assert.Equal(t, executor.OutcomeFailed, out.Kind)
	assert.Contains(t, out.Reason, `"listing_url"`)
	assert.Empty(t, fake.clicked, "submit must not be clicked with missing data")
}

func TestExecuteSerializesAttempts(t *testing.T) {
	fake := newFakeEngine()
	fake.waitErr[".g-recaptcha"] = context.DeadlineExceeded
	fake.waitErr[".form-error"] = context.DeadlineExceeded

	exec := newTestExecutor(fake)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.Execute(context.Background(), browserSpec(), profileFields())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fake.maxInFlight, "browser attempts must run one at a time")
	assert.Len(t, fake.navigated, 4)
}

func TestExecuteWrongChannel(t *testing.T) {
	spec := &broker.RemovalSpec{BrokerID: "x", Channel: broker.ChannelEmail}
	_, err := newTestExecutor(newFakeEngine()).Execute(context.Background(), spec, profileFields())
	require.Error(t, err)
}

func TestLazyEngineStart(t *testing.T) {
	started := 0
	fake := newFakeEngine()
	fake.waitErr[".g-recaptcha"] = context.DeadlineExceeded
	fake.waitErr[".form-error"] = context.DeadlineExceeded

	exec := New(withEngineFactory(func() (Engine, error) {
		started++
		return fake, nil
	}))

	assert.Zero(t, started, "no browser before the first attempt")

	for range 3 {
		_, err := exec.Execute(context.Background(), browserSpec(), profileFields())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, started, "the browser is started once and shared")
}

func TestEngineStartFailure(t *testing.T) {
	exec := New(withEngineFactory(func() (Engine, error) {
		return nil, errors.New("chrome not found")
	}))

	_, err := exec.Execute(context.Background(), browserSpec(), profileFields())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start browser engine")
}

func TestClose(t *testing.T) {
	fake := newFakeEngine()
	fake.waitErr[".g-recaptcha"] = context.DeadlineExceeded
	fake.waitErr[".form-error"] = context.DeadlineExceeded

	exec := newTestExecutor(fake)

	require.NoError(t, exec.Close(context.Background()), "close without a started browser is a no-op")
	assert.False(t, fake.closed)

	_, err := exec.Execute(context.Background(), browserSpec(), profileFields())
	require.NoError(t, err)

	require.NoError(t, exec.Close(context.Background()))
	assert.True(t, fake.closed)
}
