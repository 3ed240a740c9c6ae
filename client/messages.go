package client

import "p2pdir/tracker"

var failures = map[string][]string{
	tracker.CmdRegister:    {"", "USERNAME IN USE", "REGISTER FAIL, USER TABLE FULL"},
	tracker.CmdUnregister:  {"", "USER DOES NOT EXIST"},
	tracker.CmdConnect:     {"", "CONNECT FAIL, USER DOES NOT EXIST", "USER ALREADY CONNECTED"},
	tracker.CmdDisconnect:  {"", "DISCONNECT FAIL, USER DOES NOT EXIST", "DISCONNECT FAIL, USER NOT CONNECTED"},
	tracker.CmdPublish:     {"", "PUBLISH FAIL, USER DOES NOT EXIST", "PUBLISH FAIL, USER NOT CONNECTED", "PUBLISH FAIL, CONTENT ALREADY PUBLISHED", "PUBLISH FAIL, FILE TABLE FULL"},
	tracker.CmdDelete:      {"", "DELETE FAIL, USER DOES NOT EXIST", "DELETE FAIL, USER NOT CONNECTED", "DELETE FAIL, CONTENT NOT PUBLISHED"},
	tracker.CmdListUsers:   {"", "LIST_USERS FAIL, USER DOES NOT EXIST", "LIST_USERS FAIL, USER NOT CONNECTED"},
	tracker.CmdListContent: {"", "LIST_CONTENT FAIL, USER DOES NOT EXIST", "LIST_CONTENT FAIL, USER NOT CONNECTED", "LIST_CONTENT FAIL, REMOTE USER DOES NOT EXIST", "LIST_CONTENT FAIL, USER HAS NO FILES"},
}

// Describe renders a result code the way the command line client prints
// it.
func Describe(cmd string, code int) string {
	if code == tracker.CodeOK {
		return cmd + " OK"
	}
	if msgs, ok := failures[cmd]; ok && code > 0 && code < len(msgs) {
		return msgs[code]
	}
	return cmd + " FAIL"
}
