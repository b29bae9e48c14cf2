package service

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// Page is one page of an admin listing. Pages are 1-based.
type Page[T any] struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
	Data     []T `json:"data"`
}

// Paginate slices items into the requested page. Non-positive values fall
// back to page 1 and DefaultPageSize; pageSize is capped at MaxPageSize.
func Paginate[T any](items []T, page, pageSize int) Page[T] {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	data := []T{}
	// Compare page counts before multiplying so huge pages cannot overflow.
	pages := (len(items) + pageSize - 1) / pageSize
	if page-1 < pages {
		start := (page - 1) * pageSize
		end := min(start+pageSize, len(items))
		data = items[start:end]
	}
	return Page[T]{Page: page, PageSize: pageSize, Total: len(items), Data: data}
}

// AdminService exposes read-only views of the registry.
type AdminService struct {
	registry *Registry
}

// NewAdminService creates an AdminService over registry.
func NewAdminService(registry *Registry) *AdminService {
	return &AdminService{registry: registry}
}

// Topics returns one page of live topics sorted by name.
func (s *AdminService) Topics(page, pageSize int) Page[TopicInfo] {
	return Paginate(s.registry.Topics(), page, pageSize)
}

// Connections returns one page of subscriber channels sorted by id.
func (s *AdminService) Connections(page, pageSize int) Page[ChannelStats] {
	return Paginate(s.registry.Connections(), page, pageSize)
}

// Tail returns the most recent events of topic.
func (s *AdminService) Tail(topic string, limit int) []TailEvent {
	return s.registry.Tail(topic, limit)
}

// Health is the payload of the liveness endpoint.
type Health struct {
	Status      string `json:"status"`
	Topics      int    `json:"topics"`
	Connections int    `json:"connections"`
}

// Health reports registry counts.
func (s *AdminService) Health() Health {
	return Health{
		Status:      "ok",
		Topics:      s.registry.TopicCount(),
		Connections: s.registry.ActiveSubscribers(),
	}
}
