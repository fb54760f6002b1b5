package config

import "testing"

func TestValidateRejectsEmptyListenAddr(t *testing.T) {
	c := Defaults()
	c.ListenAddr = ""
	c.DataDir = "/tmp/x"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for empty listen addr")
	}
}

func TestValidateRejectsTokenAndInsecureTogether(t *testing.T) {
	c := Defaults()
	c.DataDir = "/tmp/x"
	c.Token = "secret"
	c.InsecureNoAuth = true
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for mutually exclusive flags")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := Defaults()
	c.DataDir = "/tmp/x"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestResolveTokenFallsBackToEnv(t *testing.T) {
	t.Setenv(TokenEnvVar, "from-env")
	c := Defaults()
	c.ResolveToken()
	if c.Token != "from-env" {
		t.Fatalf("got %q", c.Token)
	}
}

func TestResolveTokenExplicitWins(t *testing.T) {
	t.Setenv(TokenEnvVar, "from-env")
	c := Defaults()
	c.Token = "explicit"
	c.ResolveToken()
	if c.Token != "explicit" {
		t.Fatalf("got %q", c.Token)
	}
}
