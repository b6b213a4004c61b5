package authrpc

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// ErrBadMessage is returned when a message lacks a required field.
var ErrBadMessage = errors.New("authrpc: malformed message")

type LoginRequest struct {
	Username string
	Password string
}

// User is the subject carried in a session response.
type User struct {
	ID          string
	Username    string
	Role        string
	Permissions []string
	LastLogin   time.Time
}

// Session is the response to Login and RefreshToken.
type Session struct {
	AccessToken string
	FirstLogin  bool
	User        User
}

type LogoutRequest struct {
	Reason string
}

type ClusterStatus struct {
	IsReady    bool
	IsCreating bool
	IsJoining  bool
}

func (r LoginRequest) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"username": r.Username,
		"password": r.Password,
	})
}

func ParseLoginRequest(s *structpb.Struct) (LoginRequest, error) {
	r := LoginRequest{
		Username: stringField(s, "username"),
		Password: stringField(s, "password"),
	}
	if r.Username == "" {
		return r, fmt.Errorf("%w: username is required", ErrBadMessage)
	}
	return r, nil
}

func (s Session) Struct() (*structpb.Struct, error) {
	perms := make([]any, len(s.User.Permissions))
	for i, p := range s.User.Permissions {
		perms[i] = p
	}
	user := map[string]any{
		"id":          s.User.ID,
		"username":    s.User.Username,
		"role":        s.User.Role,
		"permissions": perms,
	}
	if !s.User.LastLogin.IsZero() {
		user["last_login"] = s.User.LastLogin.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(map[string]any{
		"access_token": s.AccessToken,
		"first_login":  s.FirstLogin,
		"user":         user,
	})
}

func ParseSession(s *structpb.Struct) (Session, error) {
	out := Session{
		AccessToken: stringField(s, "access_token"),
		FirstLogin:  s.GetFields()["first_login"].GetBoolValue(),
	}
	if out.AccessToken == "" {
		return out, fmt.Errorf("%w: access_token is required", ErrBadMessage)
	}

	u := s.GetFields()["user"].GetStructValue()
	if u == nil {
		return out, fmt.Errorf("%w: user is required", ErrBadMessage)
	}
	out.User = User{
		ID:       stringField(u, "id"),
		Username: stringField(u, "username"),
		Role:     stringField(u, "role"),
	}
	for _, v := range u.GetFields()["permissions"].GetListValue().GetValues() {
		out.User.Permissions = append(out.User.Permissions, v.GetStringValue())
	}
	if ll := stringField(u, "last_login"); ll != "" {
		t, err := time.Parse(time.RFC3339Nano, ll)
		if err != nil {
			return out, fmt.Errorf("%w: last_login: %v", ErrBadMessage, err)
		}
		out.User.LastLogin = t
	}
	return out, nil
}

func (r LogoutRequest) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"reason": r.Reason})
}

func ParseLogoutRequest(s *structpb.Struct) LogoutRequest {
	return LogoutRequest{Reason: stringField(s, "reason")}
}

func (c ClusterStatus) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"is_ready":    c.IsReady,
		"is_creating": c.IsCreating,
		"is_joining":  c.IsJoining,
	})
}

func ParseClusterStatus(s *structpb.Struct) ClusterStatus {
	f := s.GetFields()
	return ClusterStatus{
		IsReady:    f["is_ready"].GetBoolValue(),
		IsCreating: f["is_creating"].GetBoolValue(),
		IsJoining:  f["is_joining"].GetBoolValue(),
	}
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}
