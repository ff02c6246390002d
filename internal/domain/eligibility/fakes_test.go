package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/eligibility/internal/platform/blobstore"
	"github.com/ehr/eligibility/pkg/client"
)

// -- token source --

type fakeTokens struct {
	token       string
	err         error
	ensureCalls int
	invalidated int
}

func (f *fakeTokens) EnsureToken(context.Context) (string, error) {
	f.ensureCalls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func (f *fakeTokens) InvalidateIf(_ context.Context, value string) bool {
	if value != f.token {
		return false
	}
	f.invalidated++
	return true
}

// -- gateway --

type fakeGateway struct {
	eligibility json.RawMessage
	eligErr     error
	coverage    json.RawMessage
	covErr      error
	card        *client.MemberCardData
	cardErr     error
	network     json.RawMessage
	networkErr  error
	onElig      func()

	calls     []string
	lastElig  client.EligibilityRequest
	lastCov   client.CoverageRequest
	lastCard  client.MemberCardRequest
	lastNetwk client.NetworkStatusRequest
}

func (f *fakeGateway) Eligibility(_ context.Context, req client.EligibilityRequest) (json.RawMessage, error) {
	f.calls = append(f.calls, "eligibility")
	f.lastElig = req
	if f.onElig != nil {
		f.onElig()
	}
	return f.eligibility, f.eligErr
}

func (f *fakeGateway) Coverage(_ context.Context, req client.CoverageRequest) (json.RawMessage, error) {
	f.calls = append(f.calls, "coverage")
	f.lastCov = req
	return f.coverage, f.covErr
}

func (f *fakeGateway) MemberCard(_ context.Context, req client.MemberCardRequest) (*client.MemberCardData, error) {
	f.calls = append(f.calls, "member-card")
	f.lastCard = req
	return f.card, f.cardErr
}

func (f *fakeGateway) NetworkStatus(_ context.Context, req client.NetworkStatusRequest) (json.RawMessage, error) {
	f.calls = append(f.calls, "network-status")
	f.lastNetwk = req
	return f.network, f.networkErr
}

// -- repository --

type mockSearchRepo struct {
	mu      sync.Mutex
	store   map[uuid.UUID]*SearchRecord
	failErr error
}

func newMockSearchRepo() *mockSearchRepo {
	return &mockSearchRepo{store: make(map[uuid.UUID]*SearchRecord)}
}

func (m *mockSearchRepo) Create(_ context.Context, r *SearchRecord) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt, r.UpdatedAt = r.SearchedAt, r.SearchedAt
	m.store[r.ID] = r
	return nil
}

func (m *mockSearchRepo) GetByID(_ context.Context, id uuid.UUID) (*SearchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockSearchRepo) Update(_ context.Context, r *SearchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[r.ID]; !ok {
		return ErrNotFound
	}
	m.store[r.ID] = r
	return nil
}

func (m *mockSearchRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockSearchRepo) List(ctx context.Context, limit, offset int) ([]*SearchRecord, int, error) {
	return m.Search(ctx, nil, limit, offset)
}

func (m *mockSearchRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*SearchRecord, int, error) {
	if m.failErr != nil {
		return nil, 0, m.failErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SearchRecord
	for _, r := range m.store {
		if v := params["member_id"]; v != "" && r.MemberID != v {
			continue
		}
		if v := params["date_of_birth"]; v != "" && r.DateOfBirth != v {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SearchedAt.After(out[j].SearchedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

// -- fixtures --

const fullEligibility = `{
  "memberPolicies": [
    {
      "transactionId": "TX1",
      "patientInfo": [{"patientKey": "PK1", "firstName": "Jane", "lastName": "Doe", "dateOfBirth": "1980-01-01"}],
      "insuranceInfo": {"memberId": "123456789", "payerId": "87726", "payerName": "UnitedHealthcare"},
      "policyInfo": {"policyStatus": "Active Policy", "coverageType": "Medical"}
    },
    {
      "transactionId": "TX2",
      "patientInfo": [{"patientKey": "PK2", "firstName": "John"}],
      "insuranceInfo": {"memberId": "999"}
    }
  ]
}`

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type harness struct {
	tokens *fakeTokens
	gw     *fakeGateway
	repo   *mockSearchRepo
	blobs  *blobstore.MemoryStore
	orch   *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		tokens: &fakeTokens{token: "Bearer T"},
		gw: &fakeGateway{
			eligibility: json.RawMessage(fullEligibility),
			coverage:    json.RawMessage(`{"coverageDetails":{"deductible":500}}`),
			card:        &client.MemberCardData{ImageData: pngBytes, ContentType: "image/png"},
			network:     json.RawMessage(`{"networkStatus":"INN"}`),
		},
		repo:  newMockSearchRepo(),
		blobs: blobstore.NewMemoryStore(),
	}
	h.orch = NewOrchestrator(h.tokens, h.gw, h.repo, h.blobs, zerolog.Nop())
	return h
}

var errBoom = errors.New("boom")
