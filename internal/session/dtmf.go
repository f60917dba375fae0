package session

// NoResponse is the operator's "nothing was pressed" answer.
const NoResponse = "No Response"

// DTMFOptions lists the values the operator may choose from, in display order.
var DTMFOptions = []string{NoResponse, "1", "2", "3", "4", "5", "6", "7", "8", "9", "0", "*", "#"}

func ValidDTMF(value string) bool {
	for _, opt := range DTMFOptions {
		if opt == value {
			return true
		}
	}
	return false
}
