package envoy

// Notification receives token and session lifecycle events, so hosts
// can persist fresh tokens or surface auth problems without polling.
type Notification interface {
	JWTRefreshed(string)
	JWTError(error)
	SessionRefreshed(string)
	SessionError(error)
}

var NilNotification = nilNotification{}

type nilNotification struct {
}

func (n nilNotification) JWTRefreshed(_ string) {

}

func (n nilNotification) JWTError(_ error) {
}

func (n nilNotification) SessionRefreshed(_ string) {

}

func (n nilNotification) SessionError(_ error) {
}
