package types

// Wire constants of the Qwen chat API.
const (
	QwenChatModeNormal = "normal"
	QwenChatTypeText   = "t2t"
	QwenUserAction     = "chat"
	QwenOutputSchema   = "phase"
)

// ThinkingSuffix on a model id turns thinking mode on for the request.
const ThinkingSuffix = "-thinking"

// QwenNewChatRequest is the body of POST /chats/new.
type QwenNewChatRequest struct {
	Title     string   `json:"title"`
	Models    []string `json:"models"`
	ChatMode  string   `json:"chat_mode"`
	ChatType  string   `json:"chat_type"`
	Timestamp int64    `json:"timestamp"`
}

// QwenChatPayload is the body of POST /chat/completions?chat_id=...
// ParentID is always serialized as null.
type QwenChatPayload struct {
	Stream            bool          `json:"stream"`
	IncrementalOutput bool          `json:"incremental_output"`
	ChatID            string        `json:"chat_id"`
	ChatMode          string        `json:"chat_mode"`
	Model             string        `json:"model"`
	ParentID          *string       `json:"parent_id"`
	Messages          []QwenMessage `json:"messages"`
	Timestamp         int64         `json:"timestamp"`
}

// QwenMessage is one message record inside a QwenChatPayload. The upstream
// expects both parentId and parent_id, both null.
type QwenMessage struct {
	FID           string           `json:"fid"`
	ParentID      *string          `json:"parentId"`
	ChildrenIDs   []string         `json:"childrenIds"`
	Role          string           `json:"role"`
	Content       string           `json:"content"`
	UserAction    string           `json:"user_action"`
	Files         []any            `json:"files"`
	Timestamp     int64            `json:"timestamp"`
	Models        []string         `json:"models"`
	ChatType      string           `json:"chat_type"`
	FeatureConfig map[string]any   `json:"feature_config"`
	Extra         QwenMessageExtra `json:"extra"`
	SubChatType   string           `json:"sub_chat_type"`
	ParentIDSnake *string          `json:"parent_id"`
}

type QwenMessageExtra struct {
	Meta QwenMessageMeta `json:"meta"`
}

type QwenMessageMeta struct {
	SubChatType string `json:"subChatType"`
}
