// Package bridge exposes an event bus to clients outside the process.
//
// Websocket clients connect to SocketPath and exchange JSON frames: they can
// send and publish to addresses, register for addresses to have messages
// pushed to them, and answer the reply addresses of pushed messages. Every
// socket owns an event loop, so handlers registered on its behalf run one at
// a time and writes to the connection never interleave.
//
// The same server answers two connect RPCs, SendProcedure and
// PublishProcedure, with a JSON codec. Client wraps them.
//
// Traffic is filtered by permit rules. Inbound rules decide what clients may
// send or publish, outbound rules what they may register for and receive;
// with no rules in a direction nothing crosses. When an auth secret is
// configured every RPC needs an "Authorization: Bearer" header and every
// socket a token query parameter.
package bridge
